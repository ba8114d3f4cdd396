package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultSQLitePath is where the sqlite backend keeps its database file.
const DefaultSQLitePath = "./data/data.db"

type userRow struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null;uniqueIndex"`
}

func (userRow) TableName() string { return "users" }

type deviceRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null;uniqueIndex:idx_devices_name_type"`
	Type         string `gorm:"not null;uniqueIndex:idx_devices_name_type"`
	Notification string
}

func (deviceRow) TableName() string { return "devices" }

func (d deviceRow) toDevice() *clipboard.Device {
	return &clipboard.Device{
		ID:           d.ID,
		Name:         d.Name,
		Type:         clipboard.DeviceType(d.Type),
		Notification: d.Notification,
	}
}

// userDeviceRow links a device to its single owner.
type userDeviceRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	UserID   string `gorm:"not null;index"`
	DeviceID string `gorm:"not null;uniqueIndex"`
}

func (userDeviceRow) TableName() string { return "user_device" }

// SQLiteRegistry stores users and devices in a local SQLite file.
type SQLiteRegistry struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLiteRegistry, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under concurrent requests.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &deviceRow{}, &userDeviceRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

// Close closes the database.
func (s *SQLiteRegistry) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteRegistry) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return clipboard.Upstream("ping sqlite", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return clipboard.Upstream("ping sqlite", err)
	}
	return nil
}

// ResolveDevice returns the device registered as (name, deviceType), creating it if absent.
func (s *SQLiteRegistry) ResolveDevice(ctx context.Context, name, deviceType string) (*clipboard.Device, error) {
	dt, err := validateDevice(name, deviceType)
	if err != nil {
		return nil, err
	}
	row, err := s.findOrCreateDevice(ctx, name, dt, "")
	if err != nil {
		return nil, err
	}
	return row.toDevice(), nil
}

// findOrCreateDevice inserts the device unless (name, type) exists, then reads it back.
func (s *SQLiteRegistry) findOrCreateDevice(ctx context.Context, name string, dt clipboard.DeviceType, notification string) (*deviceRow, error) {
	db := s.db.WithContext(ctx)

	candidate := deviceRow{ID: uuid.New().String(), Name: name, Type: string(dt), Notification: notification}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return nil, clipboard.Upstream("insert device", err)
	}

	var row deviceRow
	if err := db.Where("name = ? AND type = ?", name, string(dt)).First(&row).Error; err != nil {
		return nil, clipboard.Upstream("find device", err)
	}
	return &row, nil
}

// FindUserByDevice returns the owner of device with its roster.
func (s *SQLiteRegistry) FindUserByDevice(ctx context.Context, device *clipboard.Device) (*clipboard.User, error) {
	var link userDeviceRow
	err := s.db.WithContext(ctx).Where("device_id = ?", device.ID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: device %s has no owner", clipboard.ErrUserNotFound, device)
	}
	if err != nil {
		return nil, clipboard.Upstream("find device owner", err)
	}

	var user userRow
	err = s.db.WithContext(ctx).Where("id = ?", link.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", clipboard.ErrUserNotFound, link.UserID)
	}
	if err != nil {
		return nil, clipboard.Upstream("read user", err)
	}

	return s.withRoster(ctx, user)
}

// FindUser returns the user called name with its roster.
func (s *SQLiteRegistry) FindUser(ctx context.Context, name string) (*clipboard.User, error) {
	if err := validateUserName(name); err != nil {
		return nil, err
	}

	var user userRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", clipboard.ErrUserNotFound, name)
	}
	if err != nil {
		return nil, clipboard.Upstream("find user", err)
	}

	return s.withRoster(ctx, user)
}

// FindOrCreateUser returns the user called name, creating it if absent.
func (s *SQLiteRegistry) FindOrCreateUser(ctx context.Context, name string) (*clipboard.User, error) {
	if err := validateUserName(name); err != nil {
		return nil, err
	}

	candidate := userRow{ID: uuid.New().String(), Name: name}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return nil, clipboard.Upstream("insert user", err)
	}

	return s.FindUser(ctx, name)
}

// AddDeviceToUser registers the device and links it to user if it has no owner.
func (s *SQLiteRegistry) AddDeviceToUser(ctx context.Context, user *clipboard.User, name, deviceType, notification string) error {
	dt, err := validateDevice(name, deviceType)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRegistry := &SQLiteRegistry{db: tx}
		device, err := txRegistry.findOrCreateDevice(ctx, name, dt, notification)
		if err != nil {
			return err
		}

		link := userDeviceRow{UserID: user.ID, DeviceID: device.ID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
		if res.Error != nil {
			return clipboard.Upstream("link device", res.Error)
		}
		if res.RowsAffected == 1 && notification != "" && device.Notification != notification {
			if err := tx.Model(&deviceRow{}).Where("id = ?", device.ID).Update("notification", notification).Error; err != nil {
				return clipboard.Upstream("update notification", err)
			}
		}

		roster, err := txRegistry.roster(ctx, user.ID)
		if err != nil {
			return err
		}
		user.Devices = roster
		return nil
	})
}

func (s *SQLiteRegistry) withRoster(ctx context.Context, user userRow) (*clipboard.User, error) {
	devices, err := s.roster(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &clipboard.User{ID: user.ID, Name: user.Name, Devices: devices}, nil
}

// roster loads every device of a user, ordered by name then type.
func (s *SQLiteRegistry) roster(ctx context.Context, userID string) ([]*clipboard.Device, error) {
	var rows []deviceRow
	err := s.db.WithContext(ctx).
		Joins("JOIN user_device ON devices.id = user_device.device_id").
		Where("user_device.user_id = ?", userID).
		Order("devices.name, devices.type").
		Find(&rows).Error
	if err != nil {
		return nil, clipboard.Upstream("read user devices", err)
	}

	devices := make([]*clipboard.Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, row.toDevice())
	}
	return devices, nil
}
