package protocol

// Item is a decoded item record. UPC is the identity key used for duplicate
// comparison; every other field passes through the relay unexamined.
type Item struct {
	UPC       string `json:"upc"`
	Extension string `json:"extension,omitempty"`
	Title     string `json:"title,omitempty"`
	ScannedAt int64  `json:"scannedAt,omitempty"` // unix millis
}
