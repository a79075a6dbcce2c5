// Точка входа Archive Module — подсистема архивации и восстановления данных
// практики MedFlow. Загружает конфигурацию, подключается к операционной
// и архивной базам PostgreSQL, применяет миграции, создаёт движки архивации
// и восстановления, запускает планировщик правил, topologymetrics и
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/medflow-emr/archive-module/internal/api/handlers"
	"github.com/medflow-emr/archive-module/internal/api/middleware"
	"github.com/medflow-emr/archive-module/internal/config"
	"github.com/medflow-emr/archive-module/internal/database"
	"github.com/medflow-emr/archive-module/internal/repository"
	"github.com/medflow-emr/archive-module/internal/server"
	"github.com/medflow-emr/archive-module/internal/service"
)

// keycloakReadinessTimeout — таймаут проверки Keycloak в readiness probe.
const keycloakReadinessTimeout = 5 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Archive Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждение о дефолтных значениях topologymetrics
	if os.Getenv("ARM_DEPHEALTH_GROUP") == "" {
		logger.Warn("ARM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций обеих БД
	logger.Info("Применение миграций операционной базы...")
	if err := database.MigrateOperational(&cfg.DB, logger); err != nil {
		logger.Error("Ошибка миграций операционной базы", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Применение миграций архивной базы...")
	if err := database.MigrateArchive(&cfg.ArchiveDB, logger); err != nil {
		logger.Error("Ошибка миграций архивной базы", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool): операционная и архивная базы
	ctx := context.Background()
	opPool, err := database.Connect(ctx, &cfg.DB, logger)
	if err != nil {
		logger.Error("Ошибка подключения к операционной базе", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer opPool.Close()

	archPool, err := database.Connect(ctx, &cfg.ArchiveDB, logger)
	if err != nil {
		logger.Error("Ошибка подключения к архивной базе", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer archPool.Close()

	// 4.1 Адаптеры pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующие пулы соединений,
	// что позволяет обнаружить их исчерпание.
	opDB := stdlib.OpenDBFromPool(opPool)
	defer opDB.Close()
	archDB := stdlib.OpenDBFromPool(archPool)
	defer archDB.Close()

	// 5. Repositories
	opCatalog := repository.NewCatalogRepository(opPool)
	archCatalog := repository.NewCatalogRepository(archPool)
	opData := repository.NewTableDataRepository(opPool)
	archData := repository.NewTableDataRepository(archPool)
	metaRepo := repository.NewArchiveMetadataRepository(archPool)
	ruleRepo := repository.NewRetentionRuleRepository(opPool)
	archTxRunner := repository.NewTxRunner(archPool)

	// 6. Services
	replicator := service.NewSchemaReplicator(opCatalog, archCatalog, archData, logger)
	creator := service.NewArchiveCreator(replicator, opData, archData, archPool, metaRepo, logger)
	restorer := service.NewArchiveRestorer(opCatalog, opData, opPool, archData, metaRepo, logger)
	archivesSvc := service.NewArchiveService(metaRepo, archData, archTxRunner, logger)
	rulesSvc := service.NewRetentionRuleService(ruleRepo, logger)

	// 7. Планировщик правил архивации
	scheduler := service.NewScheduler(
		ruleRepo, creator,
		cfg.SchedulerPollInterval, cfg.RuleStaleTimeout,
		logger,
	)

	// 8. Readiness checkers (PostgreSQL x2 + Keycloak)
	opPgChecker := database.NewReadinessChecker(opPool, "operational")
	archPgChecker := database.NewReadinessChecker(archPool, "archive")
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, keycloakReadinessTimeout)
	if err != nil {
		logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(opPgChecker, archPgChecker, kcChecker)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		archivesSvc,
		creator,
		restorer,
		rulesSvc,
		scheduler,
		logger,
	)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.RoleReadonlyGroups,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. Запуск планировщика
	scheduler.Start(ctx)

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL x2 + Keycloak)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"archive-module",
		cfg.DephealthGroup,
		opDB,
		cfg.DB.URL(),
		archDB,
		cfg.ArchiveDB.URL(),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. Создание и запуск HTTP-сервера.
	// Фоновые задачи останавливаются после остановки приёма запросов.
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(func() {
		logger.Info("Останавливаем фоновые задачи...")
		scheduler.Stop()
		if dephealthSvc != nil {
			dephealthSvc.Stop()
		}
	}); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Archive Module остановлен")
}
