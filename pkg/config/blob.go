package config

// BlobConfig holds the S3-compatible object store connection settings.
// Path-style addressing is always used so MinIO deployments work unchanged.
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

// LoadBlobConfigFromEnv builds a BlobConfig from the environment.
// BLOB_ENDPOINT, BLOB_ACCESS_KEY and BLOB_SECRET_KEY are required.
func LoadBlobConfigFromEnv() (*BlobConfig, error) {
	endpoint, err := requireEnv("BLOB_ENDPOINT")
	if err != nil {
		return nil, err
	}
	accessKey, err := requireEnv("BLOB_ACCESS_KEY")
	if err != nil {
		return nil, err
	}
	secretKey, err := requireEnv("BLOB_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	return &BlobConfig{
		Endpoint:  endpoint,
		Region:    getEnvOrDefault("BLOB_REGION", "us-east-1"),
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    getEnvOrDefault("BLOB_CONTAINER", "pipeline"),
	}, nil
}
