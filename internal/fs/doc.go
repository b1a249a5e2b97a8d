// Package fs abstracts the file system so storage components can be tested
// against fakes and fault-injecting wrappers.
package fs
