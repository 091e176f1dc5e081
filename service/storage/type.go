package storage

type IService interface {
	// StoreFile exports a local file and returns the URL it can be shared with.
	StoreFile(fileName string) (string, error)
}
