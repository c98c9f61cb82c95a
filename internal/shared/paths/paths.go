package paths

import (
	"os"
	"path/filepath"
)

const appDirName = "guild-raffle"

var dataDirOverride string

// SetDataDir はデータディレクトリを上書きする（設定・テスト用）
func SetDataDir(dir string) {
	dataDirOverride = dir
}

// GetDataDir returns the directory holding the sqlite database and logs.
func GetDataDir() string {
	if dataDirOverride != "" {
		return dataDirOverride
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDirName)
	}
	return filepath.Join(".", "data")
}

// GetDBPath returns the path of the local sqlite database.
func GetDBPath() string {
	return filepath.Join(GetDataDir(), "local.db")
}

// EnsureDataDirs はデータディレクトリを作成する
func EnsureDataDirs() error {
	return os.MkdirAll(GetDataDir(), 0755)
}
