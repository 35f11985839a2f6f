package ports

// ConfigParser decodes a host configuration document into target.
type ConfigParser interface {
	// Parse unmarshals raw bytes into target.
	Parse(data []byte, target any) error
}
