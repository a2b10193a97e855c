// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"path/filepath"
)

// a type with storage configuration parameters
type storageConfig struct {
	// Root directory under which document blobs and journals are stored.
	Path string `json:"path" yaml:"path"`
	// Path of the relational database file (defaults to DbName under Path).
	DbPath string `json:"dbPath" yaml:"dbPath"`
	// Name used for the database file when DbPath isn't given.
	DbName string `json:"dbName" yaml:"dbName"`
	// Largest document (in bytes) the blob store accepts.
	MaxFileSize int64 `json:"maxFileSize" yaml:"maxFileSize"`
	// If true, blob reads re-verify the stored checksum.
	UseChecksum bool `json:"useChecksum" yaml:"useChecksum"`
}

// returns the resolved path of the relational database file
func (params storageConfig) DatabasePath() string {
	if params.DbPath != "" {
		return params.DbPath
	}
	return filepath.Join(params.Path, params.DbName)
}

// This helper validates the given storage parameters, returning an
// error indicating success or failure.
func validateStorageParameters(params storageConfig) error {
	if params.Path == "" {
		return fmt.Errorf("No storage path was provided!")
	}
	if params.MaxFileSize <= 0 {
		return fmt.Errorf("Invalid maxFileSize: %d (must be positive)",
			params.MaxFileSize)
	}
	return nil
}
