// internal/pkg/database/mysql.go
package database

import (
	"fmt"
	"time"

	"tableside/internal/pkg/logger"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type MySQLOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN 使用驱动自带的 Config 生成连接串，避免手写转义
func (o MySQLOptions) DSN() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", o.Host, o.Port)
	cfg.DBName = o.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL 打开 gorm 连接并配置连接池
func OpenMySQL(opts MySQLOptions) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(opts.DSN()), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s:%d/%s", opts.Host, opts.Port, opts.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.L().Info().Str("addr", fmt.Sprintf("%s:%d", opts.Host, opts.Port)).Str("db", opts.Database).Msg("✅ Connected to MySQL")
	return db, nil
}
