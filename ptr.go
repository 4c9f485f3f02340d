package videoout

func ptr[T any](v T) *T {
	return &v
}
