package domain

// SourceType identifies the remote backend a run mirrors from
type SourceType string

const (
	SourceSFTP   SourceType = "sftp"
	SourceLocal  SourceType = "local"
	SourceGDrive SourceType = "gdrive"
)

// IsValid checks if the source type is a known value
func (t SourceType) IsValid() bool {
	switch t {
	case SourceSFTP, SourceLocal, SourceGDrive:
		return true
	}
	return false
}

// Source holds the connection settings for the remote side of a run
type Source struct {
	// Type selects the adapter
	Type SourceType `mapstructure:"type"`

	// Dir is the remote directory to mirror
	Dir string `mapstructure:"dir"`

	// Host and Port of the SFTP server
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// User to authenticate as
	User string `mapstructure:"user"`

	// Password for password authentication (optional)
	Password string `mapstructure:"password"`

	// KeyPath to a private key file (optional)
	KeyPath string `mapstructure:"key_path"`

	// KeyPassphrase decrypts KeyPath when it is encrypted
	KeyPassphrase string `mapstructure:"key_passphrase"`

	// KnownHosts is the known_hosts file used to verify the server key
	KnownHosts string `mapstructure:"known_hosts"`

	// InsecureIgnoreHostKey disables host key verification entirely
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key"`

	// Timeout in seconds for connecting and for each remote call
	Timeout int `mapstructure:"timeout"`

	// Root confines local and gdrive sources
	Root string `mapstructure:"root"`

	// ClientID, ClientSecret and TokenPath configure the gdrive source
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenPath    string `mapstructure:"token_path"`
}
