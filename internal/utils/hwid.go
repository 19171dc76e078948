package utils

import "github.com/denisbrodbeck/machineid"

// HWID is a stable, app-scoped machine identifier used as the relay client id.
var HWID = func() string {
	id, err := machineid.ProtectedID("shuttersync")
	if err != nil {
		return "unknown"
	}
	return id
}()
