//go:build mage

// Package main provides build targets for folio using Mage.
//
// Usage:
//
//	mage build             Compile the folio binary to bin/
//	mage test:all          Run every test
//	mage test:unit         Run tests that need no external services
//	mage test:integration  Run the postgres tests against a container
//	mage lint              Run golangci-lint
//	mage clean             Remove build artifacts
//	mage install           Install folio to GOPATH/bin
//	mage stats             Print Go line counts
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "folio"
	binaryDir  = "bin"
	cmdDir     = "./cmd/folio"
	versionVar = "github.com/mesh-intelligence/folio/internal/config.Version"
)

// version describes the checkout, falling back to "dev" outside git.
func version() string {
	out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || strings.TrimSpace(out) == "" {
		return "dev"
	}
	return strings.TrimSpace(out)
}

// Build compiles the folio binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	ldflags := "-X " + versionVar + "=" + version()
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
