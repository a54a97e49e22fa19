package db

import (
	"strings"
	"testing"

	"Fanvault/config"

	gormlogger "gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBUser: "fan", DBPassword: "p@ss:word", DBHost: "db.internal", DBPort: "3307", DBName: "fanvault"}
	dsn := DSN(cfg)

	if !strings.HasPrefix(dsn, "fan:p@ss:word@tcp(db.internal:3307)/fanvault?") {
		t.Errorf("Unexpected DSN prefix: %s", dsn)
	}
	for _, want := range []string{"parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected %q in DSN %s", want, dsn)
		}
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  gormlogger.LogLevel
	}{
		{"debug", gormlogger.Info},
		{"info", gormlogger.Warn},
		{"warn", gormlogger.Warn},
		{"error", gormlogger.Error},
		{"", gormlogger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := gormLogLevel(tt.level); got != tt.want {
				t.Errorf("gormLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestAutoMigrateWithoutConnection(t *testing.T) {
	GormDB = nil
	if err := AutoMigrateModels(); err == nil {
		t.Error("Expected error without a connection")
	}
}
