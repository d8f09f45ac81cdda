// Package util provides random tokens and header string helpers.
package util
