// Package api defines the public contracts of the siirto transition
// engine: workflow definition types, the Engine interface, the audit log
// entry, the event/listener surface and the error taxonomy.
//
// Most users import the root siirto package, which re-exports everything
// here and provides engine constructors for each storage backend.
package api
