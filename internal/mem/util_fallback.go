//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// Cannot prevent swapping on this platform; memory clearing still
	// happens at the enclave level.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
