// Package password provides the password hashers used by authcore.
//
// Argon2id is the default. Hashes are stored in PHC string form:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
//
// Bcrypt is available for databases migrated from systems that used it.
// Both hashers compare in constant time and report a mismatch as
// (false, nil); a malformed stored hash is reported as an error.
package password
