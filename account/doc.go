// Package account persists user documents for the authentication engine.
//
// Two implementations satisfy [Store]: [MemoryStore] for tests and local
// development, and [RedisStore] for deployments. Both guarantee unique
// email and username, and both implement one-time code consumption as a
// conditional update that only succeeds while the stored code still equals
// the presented one.
package account
