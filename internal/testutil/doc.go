// Package testutil holds loopback servers shared by the package tests.
package testutil
