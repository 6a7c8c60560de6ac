package database

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatasample/internal/config"
)

func TestBuildPostgresDSN(t *testing.T) {
	base := config.DatabaseConfig{Host: "db", Port: "5432", User: "odata", Name: "sample"}

	tests := []struct {
		name    string
		mutate  func(c *config.DatabaseConfig)
		want    string
		wantErr string
	}{
		{
			name: "bare",
			want: "postgres://odata@db:5432/sample",
		},
		{
			name: "session settings",
			mutate: func(c *config.DatabaseConfig) {
				c.Password = "secret"
				c.SSLMode = "disable"
				c.Timezone = "Asia/Jakarta"
				c.ApplicationName = "odatasample"
			},
			want: "postgres://odata:secret@db:5432/sample?application_name=odatasample&sslmode=disable&timezone=Asia%2FJakarta",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *config.DatabaseConfig) { c.Timezone = "Mars/Olympus" },
			wantErr: `timezone "Mars/Olympus"`,
		},
		{
			name:    "missing host",
			mutate:  func(c *config.DatabaseConfig) { c.Host = "" },
			wantErr: "host, port, user, and name are required",
		},
		{
			name:    "missing name",
			mutate:  func(c *config.DatabaseConfig) { c.Name = "" },
			wantErr: "host, port, user, and name are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			got, err := BuildPostgresDSN(c)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPostgres(t *testing.T) {
	conf := config.DatabaseConfig{
		Host:               "db",
		Port:               "5432",
		User:               "odata",
		Name:               "sample",
		Timezone:           "UTC",
		ApplicationName:    "odatasample",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetimeSec: 300,
	}
	ctx := context.Background()

	stubOpen := func(t *testing.T, db *sql.DB, err error) *string {
		t.Helper()
		var dsn string
		orig := sqlOpen
		sqlOpen = func(_, dataSourceName string) (*sql.DB, error) {
			dsn = dataSourceName
			return db, err
		}
		t.Cleanup(func() { sqlOpen = orig })
		return &dsn
	}

	t.Run("session settings reach the driver", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		dsn := stubOpen(t, db, nil)
		mock.ExpectPing()

		got, err := NewPostgres(ctx, conf)

		require.NoError(t, err)
		assert.Equal(t, 10, got.Stats().MaxOpenConnections)
		u, err := url.Parse(*dsn)
		require.NoError(t, err)
		assert.Equal(t, "UTC", u.Query().Get("timezone"))
		assert.Equal(t, "odatasample", u.Query().Get("application_name"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open error", func(t *testing.T) {
		stubOpen(t, nil, errors.New("open error"))

		got, err := NewPostgres(ctx, conf)

		assert.ErrorContains(t, err, "sql open: open error")
		assert.Nil(t, got)
	})

	t.Run("ping error closes the pool", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		stubOpen(t, db, nil)
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))

		got, err := NewPostgres(ctx, conf)

		assert.ErrorContains(t, err, "db ping: ping failed")
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid config", func(t *testing.T) {
		got, err := NewPostgres(ctx, config.DatabaseConfig{})
		assert.Error(t, err)
		assert.Nil(t, got)
	})
}
