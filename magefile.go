//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Format runs gofmt on all Go files
func Format() error {
	fmt.Println("Running gofmt...")
	return sh.RunV("gofmt", "-w", ".")
}

// Vet runs go vet on all packages
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.RunV("go", "vet", "./...")
}

// Test runs all tests
func Test() error {
	fmt.Println("Running tests...")
	return sh.RunV("go", "test", "./...")
}

// Build builds all packages
func Build() error {
	fmt.Println("Building packages...")
	return sh.RunV("go", "build", "./...")
}

// Runtime compiles the C runtime into the static archive native
// binaries link against (libbmbrt.a under build/).
func Runtime() error {
	fmt.Println("Building runtime archive...")
	if err := os.MkdirAll("build", 0o755); err != nil {
		return err
	}
	sources, err := filepath.Glob("runtime/*.c")
	if err != nil {
		return err
	}
	var objects []string
	for _, src := range sources {
		obj := filepath.Join("build", filepath.Base(src[:len(src)-2])+".o")
		if err := sh.RunV("cc", "-O2", "-c", src, "-o", obj); err != nil {
			return err
		}
		objects = append(objects, obj)
	}
	args := append([]string{"rcs", filepath.Join("build", "libbmbrt.a")}, objects...)
	return sh.RunV("ar", args...)
}

// BootstrapTool builds the bmb-bootstrap verifier binary.
func BootstrapTool() error {
	mg.Deps(Build)
	fmt.Println("Building bmb-bootstrap...")
	return sh.RunV("go", "build", "-o", filepath.Join("build", "bmb-bootstrap"), "./cmd/bmb-bootstrap")
}

// Bootstrap runs the three-stage fixed-point verification. Requires
// BMB_STAGE0 (the foreign compiler binary) and BMB_SELF_SOURCE (the
// self-hosted compiler source) in the environment.
func Bootstrap() error {
	mg.Deps(BootstrapTool, Runtime)
	stage0 := os.Getenv("BMB_STAGE0")
	source := os.Getenv("BMB_SELF_SOURCE")
	if stage0 == "" || source == "" {
		return fmt.Errorf("set BMB_STAGE0 and BMB_SELF_SOURCE")
	}
	env := map[string]string{
		"BMB_RUNTIME_PATH": filepath.Join("build", "libbmbrt.a"),
	}
	return sh.RunWith(env, filepath.Join("build", "bmb-bootstrap"),
		"verify", "--stage0", stage0, "--source", source, "--workdir", filepath.Join("build", "stages"))
}
