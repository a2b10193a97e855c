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
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// global config variables, populated by Init()
var Service serviceConfig
var Storage storageConfig
var Auth authConfig
var Transports map[string]transportConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service    serviceConfig              `yaml:"service"`
	Storage    storageConfig              `yaml:"storage"`
	Auth       authConfig                 `yaml:"auth"`
	Transports map[string]transportConfig `yaml:"transports"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.LogLevel = "info"
	conf.Storage.Path = "storage"
	conf.Storage.DbName = "firma-sign.db"
	conf.Storage.MaxFileSize = 500 * 1024 * 1024
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Storage = conf.Storage
	Auth = conf.Auth
	Transports = conf.Transports
	if Transports == nil {
		Transports = make(map[string]transportConfig)
	}

	// environment variables override file settings where present
	applyEnvironment()

	return err
}

// applies the process environment on top of the parsed configuration
func applyEnvironment() {
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &Service.Port)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		Service.LogLevel = level
	}
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		Service.LogDir = dir
	}
	if path := os.Getenv("STORAGE_PATH"); path != "" {
		Storage.Path = path
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		Storage.DbPath = path
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		Auth.JwtSecret = secret
	}
}

// This helper validates the configuration, returning an error that indicates
// success or failure.
func validateConfig() error {
	if err := validateServiceParameters(Service); err != nil {
		return err
	}
	if err := validateStorageParameters(Storage); err != nil {
		return err
	}
	if err := validateAuthParameters(Auth); err != nil {
		return err
	}
	for name := range Transports {
		switch name {
		case "p2p", "email", "discord", "telegram", "web":
		default:
			return fmt.Errorf("Unknown transport in configuration: %s", name)
		}
	}
	return nil
}

// Initializes the Firma-Sign service configuration using the given YAML byte
// data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML data.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	return validateConfig()
}
