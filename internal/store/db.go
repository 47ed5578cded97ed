package store

import (
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Open connects to the SQLite file at dsn and migrates the schema,
// creating tables that don't exist yet.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&Session{},
		&Branch{},
		&TimelineMessage{},
		&UserIntervention{},
		&ProviderConfig{},
		&MemoryItem{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
