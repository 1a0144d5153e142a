package temporalx

// Config selects the Temporal cluster. An empty Address disables Temporal.
type Config struct {
	Address   string `env:"TEMPORAL_ADDRESS"`
	Namespace string `env:"TEMPORAL_NAMESPACE" envDefault:"sitegen"`
	TaskQueue string `env:"TEMPORAL_TASK_QUEUE" envDefault:"sitegen-generation"`

	ClientCertPath string `env:"TEMPORAL_CLIENT_CERT_PATH"`
	ClientKeyPath  string `env:"TEMPORAL_CLIENT_KEY_PATH"`
	ClientCAPath   string `env:"TEMPORAL_CLIENT_CA_PATH"`

	AutoRegisterNamespace bool `env:"TEMPORAL_AUTO_REGISTER_NAMESPACE" envDefault:"false"`
	RetentionDays         int  `env:"TEMPORAL_NAMESPACE_RETENTION_DAYS" envDefault:"7"`
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
