// Command seed loads a demo set of HCMC traffic cameras, feeds, and alert
// subscriptions so the service has something to scan on a fresh database.
package main

import (
	"log/slog"
	"os"

	"github.com/KhaiMinhVo/rainvision-backend/internal/config"
	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/KhaiMinhVo/rainvision-backend/internal/store"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm/clause"
)

func strPtr(s string) *string { return &s }

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	db := st.DB()

	cameras := []domain.Camera{
		{
			ID: "56de42ba", Name: "Nguyen Hue - Le Loi",
			Latitude: 10.7736, Longitude: 106.7019,
			WardID: strPtr("26734"), WardName: "Ben Nghe", DistrictName: "District 1",
			Status: domain.CameraActive,
		},
		{
			ID: "5a8236d1", Name: "Dien Bien Phu - Dinh Tien Hoang",
			Latitude: 10.7905, Longitude: 106.6983,
			WardID: strPtr("26740"), WardName: "Da Kao", DistrictName: "District 1",
			Status: domain.CameraActive,
		},
		{
			ID: "63b3c2d4", Name: "Vo Van Kiet - Ky Con",
			Latitude: 10.7628, Longitude: 106.6936,
			WardID: strPtr("26750"), WardName: "Nguyen Thai Binh", DistrictName: "District 1",
			Status: domain.CameraActive,
		},
		{
			ID: "7b01d83e", Name: "Truong Chinh - Cong Hoa",
			Latitude: 10.8011, Longitude: 106.6402,
			WardID: strPtr("26970"), WardName: "Ward 4", DistrictName: "Tan Binh",
			Status: domain.CameraMaintenance,
		},
	}

	feeds := []domain.CameraFeed{
		{CameraID: "56de42ba", URL: "http://giaothong.hochiminhcity.gov.vn/render/ImageHandler.ashx?id=56de42ba", IsActive: true},
		{CameraID: "5a8236d1", URL: "http://giaothong.hochiminhcity.gov.vn/render/ImageHandler.ashx?id=5a8236d1", IsActive: true},
		{CameraID: "63b3c2d4", URL: "http://giaothong.hochiminhcity.gov.vn/render/ImageHandler.ashx?id=63b3c2d4", IsActive: true},
		{CameraID: "7b01d83e", URL: "http://giaothong.hochiminhcity.gov.vn/render/ImageHandler.ashx?id=7b01d83e", IsActive: true},
	}

	subs := []domain.AlertSubscription{
		{
			ID: uuid.New(), WardID: "26734",
			DeviceToken: "demo-device-token-1",
			Threshold:   0.7, Enabled: true,
		},
		{
			ID: uuid.New(), WardID: "26740",
			DeviceToken: "demo-device-token-2",
			Email:       "demo@rainvision.local", EmailAlerts: true,
			Threshold: 0.8, Enabled: true,
		},
	}

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cameras).Error; err != nil {
		slog.Error("seed cameras failed", "error", err)
		os.Exit(1)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&feeds).Error; err != nil {
		slog.Error("seed feeds failed", "error", err)
		os.Exit(1)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&subs).Error; err != nil {
		slog.Error("seed subscriptions failed", "error", err)
		os.Exit(1)
	}

	slog.Info("seed complete",
		"cameras", len(cameras), "feeds", len(feeds), "subscriptions", len(subs))
}
