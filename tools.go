//go:build tools

// Package tools pins the versions of the development tools used for linting
// and vulnerability scanning.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
