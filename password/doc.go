// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Defaults are time cost 3, 64 MiB memory and parallelism 2. [Argon2.NeedsUpgrade]
// reports hashes produced with weaker parameters so the caller can re-hash on the next
// successful login.
//
// # Concurrency
//
// [Pool] bounds how many hashes run at once. Callers queue on a semaphore and
// honour context cancellation while waiting.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
