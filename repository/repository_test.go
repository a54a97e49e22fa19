package repository

import (
	"context"
	"errors"
	"testing"

	"Fanvault/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// dryRunDB builds statements without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "fan:secret@tcp(127.0.0.1:3306)/fanvault?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return db
}

func TestNotFound(t *testing.T) {
	domain := errors.New("domain")
	other := errors.New("connection refused")

	if got := notFound(gorm.ErrRecordNotFound, domain); got != domain {
		t.Errorf("Expected domain error, got %v", got)
	}
	if got := notFound(other, domain); got != other {
		t.Errorf("Expected passthrough, got %v", got)
	}
}

func TestCreateDefaults(t *testing.T) {
	repo := NewGormMediaAssetRepository(dryRunDB(t))

	tests := []struct {
		name       string
		asset      model.MediaAsset
		wantKind   model.MediaKind
		wantStatus model.ProcessingStatus
	}{
		{"VideoFromPath", model.MediaAsset{ID: "a1", OriginalPath: "uploads/a1/clip.MOV"}, model.KindVideo, model.StatusPending},
		{"AnimatedFromPath", model.MediaAsset{ID: "a2", OriginalPath: "uploads/a2/loop.gif"}, model.KindAnimatedImage, model.StatusPending},
		{"ExplicitKept", model.MediaAsset{ID: "a3", OriginalPath: "uploads/a3/x.bin", Kind: model.KindAudio, Status: model.StatusCompleted}, model.KindAudio, model.StatusCompleted},
		{"UnknownLeftEmpty", model.MediaAsset{ID: "a4", OriginalPath: "uploads/a4/x.bin"}, "", model.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := tt.asset
			if err := repo.Create(context.Background(), &asset); err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			if asset.Kind != tt.wantKind {
				t.Errorf("Expected kind %q, got %q", tt.wantKind, asset.Kind)
			}
			if asset.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, asset.Status)
			}
		})
	}
}
