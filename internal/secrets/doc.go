// Package secrets redacts credentials from text before it is logged or
// written to the history store, using the gitleaks default rule set.
package secrets
