//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// integrationEnv enables the tests that start containers.
const integrationEnv = "FOLIO_TEST_INTEGRATION"

// Test groups test targets (all, unit, integration).
type Test mg.Namespace

// All runs every test, including the container-backed ones.
func (Test) All() error {
	return sh.RunWithV(map[string]string{integrationEnv: "1"}, binGo, "test", "-race", "./...")
}

// Unit runs the tests that need no external services. Container-backed
// tests skip themselves.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Integration runs the store tests against a postgres container. Docker
// must be available.
func (Test) Integration() error {
	return sh.RunWithV(map[string]string{integrationEnv: "1"}, binGo, "test", "-v", "-run", "Postgres", "./internal/store/...")
}
