package modules

import "testing"

func TestAll_FixedOrder(t *testing.T) {
	all := All()
	if len(all) != 13 {
		t.Fatalf("All() вернул %d модулей, ожидается 13", len(all))
	}
	if all[0].Key != "patient_management" {
		t.Errorf("первый модуль = %q, ожидается patient_management", all[0].Key)
	}
	if all[len(all)-1].Key != "intake_forms" {
		t.Errorf("последний модуль = %q, ожидается intake_forms", all[len(all)-1].Key)
	}
}

func TestGet(t *testing.T) {
	m, ok := Get("appointments")
	if !ok {
		t.Fatal("Get(appointments) не нашёл модуль")
	}
	if len(m.Tables) != 3 {
		t.Errorf("appointments содержит %d таблиц, ожидается 3", len(m.Tables))
	}

	if _, ok := Get("unknown_module"); ok {
		t.Error("Get(unknown_module) вернул ok = true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		invalid int
	}{
		{"все валидны", []string{"tasks", "notifications"}, 0},
		{"один неизвестный", []string{"tasks", "bogus"}, 1},
		{"все неизвестные", []string{"a", "b"}, 2},
		{"пустой набор", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invalid := Validate(tt.keys)
			if len(invalid) != tt.invalid {
				t.Errorf("Validate(%v) = %v, ожидается %d неизвестных", tt.keys, invalid, tt.invalid)
			}
		})
	}
}

func TestTablesFor_ModuleOrder(t *testing.T) {
	// Порядок таблиц: по порядку переданных модулей, затем таблиц внутри модуля
	tables := TablesFor([]string{"telehealth", "appointments"})
	expected := []string{"telehealth_sessions", "appointments", "appointment_reminders", "appointment_waitlist"}
	if len(tables) != len(expected) {
		t.Fatalf("TablesFor вернул %d таблиц, ожидается %d", len(tables), len(expected))
	}
	for i, tbl := range expected {
		if tables[i] != tbl {
			t.Errorf("tables[%d] = %q, ожидается %q", i, tables[i], tbl)
		}
	}
}

func TestUniqueTables(t *testing.T) {
	// Ни одна таблица не входит в два модуля — иначе архивация задублирует строки
	seen := make(map[string]string)
	for _, m := range All() {
		for _, tbl := range m.Tables {
			if prev, ok := seen[tbl]; ok {
				t.Errorf("таблица %q входит в модули %q и %q", tbl, prev, m.Key)
			}
			seen[tbl] = m.Key
		}
	}
}
