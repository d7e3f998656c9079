// Package db opens the report ledger database.
package db

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Options selects and addresses the ledger database.
type Options struct {
	Driver   string // "sqlite" or "mysql"
	Path     string // sqlite file, or ":memory:"
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN builds a MySQL DSN with parseTime enabled.
func DSN(o Options) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	cfg.DBName = o.Database
	cfg.ParseTime = true
	cfg.Timeout = 5 * time.Second
	return cfg.FormatDSN()
}

// Dialector returns the gorm dialector for o.
func Dialector(o Options) (gorm.Dialector, error) {
	switch o.Driver {
	case DriverSQLite, "":
		path := o.Path
		if path == "" {
			path = "roadcall.db"
		}
		return sqlite.Open(path), nil
	case DriverMySQL:
		return mysql.Open(DSN(o)), nil
	}
	return nil, fmt.Errorf("db: unknown driver %q", o.Driver)
}

// Connect opens a GORM connection with query logging silenced.
func Connect(o Options) (*gorm.DB, error) {
	d, err := Dialector(o)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", describe(o), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", describe(o), err)
	}
	if o.Driver == DriverMySQL {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// One writer; also keeps a ":memory:" database alive across calls.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func describe(o Options) string {
	if o.Driver == DriverMySQL {
		return fmt.Sprintf("mysql %s:%d/%s", o.Host, o.Port, o.Database)
	}
	return "sqlite " + o.Path
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
