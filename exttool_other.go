//go:build !unix

package main

import (
	"os"

	"github.com/pkg/errors"
)

func isExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("%s is not a regular file", path)
	}
	return nil
}
