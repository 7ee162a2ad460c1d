package device

func MockGOOS(goosVal string) (restore func()) {
	saved := goos
	goos = goosVal
	return func() {
		goos = saved
	}
}
