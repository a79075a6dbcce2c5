// Пакет modules — статический реестр архивируемых модулей практики.
// Каждый модуль объединяет набор таблиц операционной базы,
// архивируемых и восстанавливаемых как единое целое.
package modules

// Module — описание архивируемого модуля.
type Module struct {
	// Key — машиночитаемый ключ модуля
	Key string
	// Name — человекочитаемое имя
	Name string
	// Description — описание состава модуля
	Description string
	// Tables — таблицы операционной базы, входящие в модуль
	Tables []string
}

// registry — порядок модулей фиксирован: архивация обходит таблицы
// в порядке модулей, затем таблиц внутри модуля.
var registry = []Module{
	{
		Key:         "patient_management",
		Name:        "Patient Management",
		Description: "Patient records, allergies, portal sessions, and pharmacy preferences",
		Tables:      []string{"patients", "patient_allergies", "patient_portal_sessions", "patient_pharmacies", "patient_preferred_pharmacies"},
	},
	{
		Key:         "appointments",
		Name:        "Appointments",
		Description: "Appointment scheduling, reminders, and waitlist",
		Tables:      []string{"appointments", "appointment_reminders", "appointment_waitlist"},
	},
	{
		Key:         "medical_records",
		Name:        "Medical Records",
		Description: "Medical records, diagnoses, prescriptions, and prescription history",
		Tables:      []string{"medical_records", "diagnosis", "prescriptions", "prescription_history"},
	},
	{
		Key:         "claims_billing",
		Name:        "Claims & Billing",
		Description: "Insurance claims, payments, payment postings, denials, and pre-approvals",
		Tables:      []string{"claims", "payments", "payment_postings", "denials", "preapprovals"},
	},
	{
		Key:         "healthcare_offerings",
		Name:        "Healthcare Offerings",
		Description: "Healthcare services, packages, pricing, promotions, and reviews",
		Tables:      []string{"healthcare_offerings", "offering_packages", "offering_pricing", "offering_promotions", "offering_reviews", "package_offerings"},
	},
	{
		Key:         "lab_pharmacy",
		Name:        "Lab & Pharmacy",
		Description: "Pharmacies, laboratories, medications, drug interactions, and alternatives",
		Tables:      []string{"pharmacies", "laboratories", "medications", "drug_interactions", "medication_alternatives"},
	},
	{
		Key:         "fhir_resources",
		Name:        "FHIR Resources",
		Description: "FHIR R4 resource data",
		Tables:      []string{"fhir_resources"},
	},
	{
		Key:         "notifications",
		Name:        "Notifications",
		Description: "System notifications",
		Tables:      []string{"notifications"},
	},
	{
		Key:         "tasks",
		Name:        "Tasks",
		Description: "Task management data",
		Tables:      []string{"tasks"},
	},
	{
		Key:         "telehealth",
		Name:        "Telehealth",
		Description: "Telehealth session records",
		Tables:      []string{"telehealth_sessions"},
	},
	{
		Key:         "audit_logs",
		Name:        "Audit Logs",
		Description: "System audit logs and form interaction tracking",
		Tables:      []string{"audit_logs"},
	},
	{
		Key:         "lab_orders",
		Name:        "Lab Orders",
		Description: "Laboratory test orders",
		Tables:      []string{"lab_orders"},
	},
	{
		Key:         "intake_forms",
		Name:        "Intake Forms",
		Description: "Patient intake form submissions",
		Tables:      []string{"patient_intake_forms"},
	},
}

// index — быстрый поиск модуля по ключу.
var index = func() map[string]Module {
	m := make(map[string]Module, len(registry))
	for _, mod := range registry {
		m[mod.Key] = mod
	}
	return m
}()

// All возвращает все модули в фиксированном порядке.
func All() []Module {
	return registry
}

// Get возвращает модуль по ключу.
func Get(key string) (Module, bool) {
	m, ok := index[key]
	return m, ok
}

// Validate проверяет набор ключей модулей.
// Возвращает срез неизвестных ключей (пустой — все валидны).
func Validate(keys []string) []string {
	var invalid []string
	for _, k := range keys {
		if _, ok := index[k]; !ok {
			invalid = append(invalid, k)
		}
	}
	return invalid
}

// TablesFor возвращает таблицы выбранных модулей в порядке
// модуль → таблица. Неизвестные ключи игнорируются.
func TablesFor(keys []string) []string {
	var tables []string
	for _, k := range keys {
		if m, ok := index[k]; ok {
			tables = append(tables, m.Tables...)
		}
	}
	return tables
}
