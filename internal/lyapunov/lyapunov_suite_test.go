package lyapunov_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLyapunov(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Lyapunov Suite")
}
