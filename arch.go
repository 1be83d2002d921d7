package main

import (
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Target architectures understood by the code generator and object writers.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX8664
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX8664:
		return "x86_64"
	case ArchARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture string (GOARCH spellings accepted)
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64":
		return ArchX8664, nil
	case "aarch64", "arm64":
		return ArchARM64, nil
	default:
		return ArchUnknown, errors.Errorf("unsupported architecture: %s", s)
	}
}

// Target platforms, which decide the object file format
type Platform int

const (
	PlatformUnknown Platform = iota
	PlatformLinux
	PlatformDarwin
)

func (p Platform) String() string {
	switch p {
	case PlatformLinux:
		return "linux"
	case PlatformDarwin:
		return "darwin"
	default:
		return "unknown"
	}
}

// ParsePlatform parses a platform string (GOOS spellings accepted)
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(s) {
	case "linux":
		return PlatformLinux, nil
	case "darwin", "macos", "osx":
		return PlatformDarwin, nil
	default:
		return PlatformUnknown, errors.Errorf("unsupported platform: %s", s)
	}
}

// HostPlatform returns the platform raskc itself is running on
func HostPlatform() Platform {
	if runtime.GOOS == "darwin" {
		return PlatformDarwin
	}
	return PlatformLinux
}

// HostArch returns the architecture raskc itself is running on
func HostArch() Arch {
	if runtime.GOARCH == "arm64" {
		return ArchARM64
	}
	return ArchX8664
}

// Object file formats produced by the object writers
type ObjFormat int

const (
	FormatELF ObjFormat = iota
	FormatMachO
)

func (f ObjFormat) String() string {
	if f == FormatMachO {
		return "macho64"
	}
	return "elf64"
}

// FormatFor returns the object file format used on a platform
func FormatFor(p Platform) ObjFormat {
	if p == PlatformDarwin {
		return FormatMachO
	}
	return FormatELF
}

// TargetTriple returns the LLVM target triple for an (arch, platform) pair
func TargetTriple(arch Arch, platform Platform) string {
	switch {
	case arch == ArchX8664 && platform == PlatformDarwin:
		return "x86_64-apple-darwin"
	case arch == ArchX8664:
		return "x86_64-pc-linux-gnu"
	case arch == ArchARM64 && platform == PlatformDarwin:
		return "arm64-apple-darwin"
	default:
		return "aarch64-unknown-linux-gnu"
	}
}
