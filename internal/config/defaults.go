package config

const (
	defaultLibraryDir        = "~/books"
	defaultLogDir            = "~/.local/share/folio/logs"
	defaultScannerBackend    = "sane"
	defaultScannerBinary     = "scanimage"
	defaultAcquireTimeout    = 120
	defaultScanResolution    = 200
	defaultScanMode          = "Color"
	defaultBookExtension     = ".png"
	defaultBookTitle         = "page"
	defaultArtifactWorkers   = 2
	defaultThumbnailSize     = "large"
	defaultOCRLanguage       = "en"
	defaultMetadataResolver  = "openlibrary"
	defaultMetadataBaseURL   = "https://openlibrary.org"
	defaultMetadataTimeout   = 15
	defaultAPIBind           = "127.0.0.1:7490"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	scannerBackendFake       = "fake"
	scannerBackendSane       = "sane"
	metadataResolverNone     = "none"
	metadataResolverOpenLib  = "openlibrary"
	maxArtifactWorkers       = 64
	minimumAcquireTimeoutSec = 1
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LibraryDir:   defaultLibraryDir,
			LogDir:       defaultLogDir,
			ThumbnailDir: defaultThumbnailDir(),
		},
		Scanner: Scanner{
			Backend:           defaultScannerBackend,
			Binary:            defaultScannerBinary,
			AcquireTimeout:    defaultAcquireTimeout,
			DefaultResolution: defaultScanResolution,
			DefaultMode:       defaultScanMode,
			Hotplug:           true,
		},
		Book: Book{
			Extension: defaultBookExtension,
			Title:     defaultBookTitle,
		},
		Artifacts: Artifacts{
			Workers:       defaultArtifactWorkers,
			ThumbnailSize: defaultThumbnailSize,
		},
		OCR: OCR{
			DefaultLanguage: defaultOCRLanguage,
		},
		Metadata: Metadata{
			Resolver:       defaultMetadataResolver,
			BaseURL:        defaultMetadataBaseURL,
			TimeoutSeconds: defaultMetadataTimeout,
		},
		API: API{
			Bind:           defaultAPIBind,
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
