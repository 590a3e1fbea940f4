// Package secure provides memory-safe handling of sensitive data.
//
// This package wraps the memguard library to hold tenant vault tokens for the
// lifetime of a vault client. It ensures that a sealed token is:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Securely wiped when no longer needed
//   - Protected from buffer overflow via guard pages
//
// # Usage
//
// Seal a tenant token when a vault client is built and only reveal it for the
// duration of a backend call:
//
//	tok, err := secure.Seal(token)
//	if err != nil {
//	    return err
//	}
//	defer tok.Destroy()
//
//	err = tok.Use(func(plain string) error {
//	    return backend.Read(ctx, plain, path)
//	})
//
// # Platform Behavior
//
// Memory locking behavior varies by platform:
//
//   - Linux: Requires RLIMIT_MEMLOCK to be set appropriately
//   - macOS: Works out of the box
//   - Windows: Uses VirtualLock
//
// If mlock is unavailable or fails, the package logs a warning and
// continues with standard Go memory (graceful degradation).
//
// # Security Guarantees
//
// This package provides defense-in-depth against memory-based attacks:
//
//   - Core dumps will not contain plaintext secrets
//   - Secrets won't be swapped to disk
//   - Memory is overwritten with zeros on destruction
//   - Guard pages detect buffer overflows
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Hardware-level attacks (cold boot, DMA)
//   - Spectre/Meltdown side-channel attacks
package secure
