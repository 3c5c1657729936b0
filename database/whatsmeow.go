package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DeviceStoreFile is the credential database kept inside each session directory.
const DeviceStoreFile = "device.db"

// EnsureSessionDir creates the per-session storage directory and checks it is writable.
func EnsureSessionDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "create session directory %s", dir)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return errors.Wrapf(err, "session directory %s is not writable", dir)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// DeviceStore is the opened credential store of one session.
type DeviceStore struct {
	Device *store.Device
	db     *sql.DB
}

func (s *DeviceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenDeviceStore opens the whatsmeow credential store of one session and loads its
// device: the stored one when the session was paired before, a fresh one otherwise.
func OpenDeviceStore(ctx context.Context, dir string, log zerolog.Logger) (*DeviceStore, error) {
	path := filepath.Join(dir, DeviceStoreFile)
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open device store")
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Zerolog(log.With().Str("component", "store").Logger()))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "upgrade device store")
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "load device")
	}
	return &DeviceStore{Device: device, db: db}, nil
}
