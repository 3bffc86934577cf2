package model

// APIToken is a configured bearer credential. Only the argon2id hash and its
// salt are stored; the raw value is shown once when generated.
type APIToken struct {
	Name string `yaml:"name"`
	Role Role   `yaml:"role"`
	Salt string `yaml:"salt"` // hex
	Hash string `yaml:"hash"` // hex
}
