package migration

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	BackupSuffix   = ".backup_%s"
	MaxBackupCount = 5
)

type BackupManager struct {
	dbPath string
	now    func() time.Time
}

func NewBackupManager(dbPath string) *BackupManager {
	return &BackupManager{dbPath: dbPath, now: time.Now}
}

// CreateBackup copies the database file aside. It returns "" when there is
// no database file yet.
func (m *BackupManager) CreateBackup() (string, error) {
	if _, err := os.Stat(m.dbPath); os.IsNotExist(err) {
		return "", nil
	}
	backupPath := m.dbPath + fmt.Sprintf(BackupSuffix, m.now().Format("20060102_150405"))
	if err := copyFile(m.dbPath, backupPath); err != nil {
		return "", err
	}
	_ = m.CleanupOldBackups()
	return backupPath, nil
}

func (m *BackupManager) RestoreBackup(backupPath string) error {
	if backupPath == "" {
		return fmt.Errorf("backup path is empty")
	}
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}
	// stale WAL/SHM files would be replayed on top of the restored copy
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(m.dbPath + suffix)
	}
	return copyFile(backupPath, m.dbPath)
}

// ListBackups returns backup files, newest first.
func (m *BackupManager) ListBackups() ([]string, error) {
	matches, err := filepath.Glob(m.dbPath + ".backup_*")
	if err != nil {
		return nil, err
	}
	// the timestamp suffix sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

func (m *BackupManager) CleanupOldBackups() error {
	backups, err := m.ListBackups()
	if err != nil {
		return err
	}
	for i := MaxBackupCount; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
