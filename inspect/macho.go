package inspect

import (
	"debug/macho"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gilburns/intuneomator/label"
)

// BinaryArch reads the Mach-O header of the compiled binary at path and
// reports which architecture slice(s) it carries.
func BinaryArch(path string) (label.Arch, error) {
	if fat, err := macho.OpenFat(path); err == nil {
		defer fat.Close()
		var arm, amd bool
		for _, a := range fat.Arches {
			switch a.Cpu {
			case macho.CpuArm64:
				arm = true
			case macho.CpuAmd64:
				amd = true
			}
		}
		if arm && amd {
			return label.ArchUniversal, nil
		}
		if arm {
			return label.ArchARM64, nil
		}
		if amd {
			return label.ArchX86_64, nil
		}
		return 0, errors.Errorf("%s: fat binary with no usable slice", filepath.Base(path))
	}
	f, err := macho.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", filepath.Base(path))
	}
	defer f.Close()
	switch f.Cpu {
	case macho.CpuArm64:
		return label.ArchARM64, nil
	case macho.CpuAmd64:
		return label.ArchX86_64, nil
	}
	return 0, errors.Errorf("%s: unsupported cpu type %v", filepath.Base(path), f.Cpu)
}

// AppArch locates the app bundle's main executable and reports its
// architecture. Used to validate that a dual-arch download really contains
// the two distinct slices the label promises.
func (i *inspector) AppArch(appPath string) (label.Arch, error) {
	info, err := i.BundleInfo(appPath)
	if err != nil {
		return 0, err
	}
	exe := info.Executable
	if exe == "" {
		exe = filepath.Base(appPath)
		exe = exe[:len(exe)-len(filepath.Ext(exe))]
	}
	return BinaryArch(filepath.Join(appPath, "Contents", "MacOS", exe))
}
