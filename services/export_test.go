package services

import "time"

var (
	RandomLicenseKey = randomLicenseKey
	FormatAmount     = formatAmount
	PercentOf        = percentOf
)

func SetLicenseKeyGenerator(svc LicenseService, gen func() (string, error)) {
	svc.(*licenseServiceImpl).newKey = gen
}

func SetLicenseClock(svc LicenseService, now func() time.Time) {
	svc.(*licenseServiceImpl).now = now
}

func SetDownloadClock(svc DownloadService, now func() time.Time) {
	svc.(*downloadServiceImpl).now = now
}
