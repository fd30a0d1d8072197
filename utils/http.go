// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the clients talking to the wallet service.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
