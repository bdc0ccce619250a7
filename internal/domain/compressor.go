package domain

type Compressor interface {
	Compress(srcDir, destFile string, exclude ExcludeFunc) (CopyReport, error)
	Extract(archive, destDir string) error
}
