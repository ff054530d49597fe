// Wsrelay CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
package main

import (
	"context"

	"dagger/wsrelay/internal/dagger"
)

// Wsrelay is the CI/CD pipeline for the relay binaries.
type Wsrelay struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", "build", "tmp", "_examples"]
	source *dagger.Directory,
) *Wsrelay {
	return &Wsrelay{
		Source: source,
	}
}

// goContainer returns a Go container with module and build caches and the
// project source mounted. The relay is pure Go, so CGO stays off.
func (w *Wsrelay) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", w.Source)
}

// Test runs the unit tests via "go test", with the race detector when asked.
func (w *Wsrelay) Test(
	ctx context.Context,

	// Run with -race (needs CGO and gcc)
	// +optional
	race bool,
) (string, error) {
	ctr := w.goContainer()
	args := []string{"go", "test", "./..."}
	if race {
		ctr = ctr.
			WithExec([]string{"apk", "add", "--no-cache", "gcc", "musl-dev"}).
			WithEnvVariable("CGO_ENABLED", "1")
		args = []string{"go", "test", "-race", "./..."}
	}

	return ctr.WithExec(args).Stdout(ctx)
}
