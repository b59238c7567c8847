// Package password hashes account passwords with Argon2id and checks new
// passwords against the account password policy.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Callers supply plaintext and store the returned string; nothing here
// persists or logs a password.
package password
