// Package secretstore composes the catalog and the vault into the calling
// workflow used by seccat: create a secret together with its material, read
// and write material by secret id, and delete both halves.
//
// The catalog and the vault cannot be updated atomically. The workflow orders
// its steps so failures leave a recoverable state:
//
//   - Create writes the catalog entry first and removes it again when the
//     material write fails.
//   - Delete removes material first and the catalog entry regardless. When
//     the material delete fails the result reports partial success and the
//     orphaned path is logged.
//
// Every operation resolves a fresh vault client for the owner and closes it
// before returning. Nothing is retried.
//
// # Calling conventions
//
// Each operation has a blocking form and an Async form returning an
// *effect.Future. Both run the same steps; the Async form resolves the tenant
// token through the factory's non-blocking path.
package secretstore
