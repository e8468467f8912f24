package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// URL of the origin server
	Origin string `yaml:"origin"`
	// hostname for HTTP requests and TLS negotiation, if it differs from the origin URL
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// storage provider, sqlite or memory
	Provider string `yaml:"provider"`
	// sqlite file name, "memory" for an in-memory db
	DB              string        `yaml:"db"`
	NamespacePrefix string        `yaml:"namespace_prefix"`
	NetworkTimeout  time.Duration `yaml:"network_timeout"`
	// max entries per namespace for the memory provider
	MemCapacity int `yaml:"mem_capacity"`
}

func defaultConfig() Config {
	return Config{
		Port:     8080,
		Provider: "sqlite",
		DB:       "cache.db",
	}
}

func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (c Config) originURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, fmt.Errorf("please specify origin")
	}
	originURL, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("could not parse origin url: %w", err)
	}
	if originURL.Scheme == "" || originURL.Host == "" {
		return nil, fmt.Errorf("origin url %q needs a scheme and a host", c.Origin)
	}
	return originURL, nil
}
