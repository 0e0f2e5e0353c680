package utils

import (
	"os"
	"path/filepath"
)

func FileExist(path string) bool {
	_, err := os.Lstat(path)
	return !os.IsNotExist(err)
}

// GetFilePath searches fileName in the following directories, returns "" if not found:
//
//  0. absolute path, returned directly
//  1. same folder with exec file
//  2. working folder
func GetFilePath(fileName string) string {
	if fileName == "" {
		return ""
	}
	if filepath.IsAbs(fileName) {
		return fileName
	}

	if execFile, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(execFile), fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if workingDir, err := os.Getwd(); err == nil {
		p := filepath.Join(workingDir, fileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
