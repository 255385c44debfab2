package llm

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/orchidlake/llmstudio/llm/model"
)

func TestVendorFromName(t *testing.T) {
	Convey("resolve vendor names", t, func() {
		for _, v := range Vendors() {
			got, err := VendorFromName(string(v))
			So(err, ShouldBeNil)
			So(got, ShouldEqual, v)
		}

		Convey("case and whitespace are forgiven", func() {
			got, err := VendorFromName("  gemini ")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, VendorGemini)
		})

		Convey("unknown names are rejected", func() {
			_, err := VendorFromName("ALIBABA")
			So(err, ShouldNotBeNil)
			perr, ok := model.AsProviderError(err)
			So(ok, ShouldBeTrue)
			So(perr.Code, ShouldEqual, model.ErrInvalidRequest)
		})
	})
}

func TestNewAdaptor(t *testing.T) {
	Convey("build conversation adapters", t, func() {
		Convey("unknown vendor fails fast", func() {
			_, err := NewAdaptor("NOPE", "some-model", nil, nil)
			So(err, ShouldNotBeNil)
			perr, ok := model.AsProviderError(err)
			So(ok, ShouldBeTrue)
			So(perr.Code, ShouldEqual, model.ErrInvalidRequest)
		})

		Convey("image vendors do not converse", func() {
			_, err := NewAdaptor("STABILITY", "stability.stable-diffusion-xl-v1", nil, nil)
			So(err, ShouldNotBeNil)
			perr, ok := model.AsProviderError(err)
			So(ok, ShouldBeTrue)
			So(perr.Code, ShouldEqual, model.ErrInvalidRequest)
		})

		Convey("conversation vendors construct or report missing credentials", func() {
			for _, v := range Vendors() {
				if v.GeneratesImages() {
					continue
				}
				a, err := NewAdaptor(string(v), "any-model", nil, nil)
				if err != nil {
					// without env credentials the constructor reports
					// auth failure instead of returning an adapter
					perr, ok := model.AsProviderError(err)
					So(ok, ShouldBeTrue)
					So(perr.Code, ShouldEqual, model.ErrAuthFailed)
					continue
				}
				So(a, ShouldNotBeNil)
			}
		})
	})
}

func TestNewImageAdaptor(t *testing.T) {
	Convey("build image adapters", t, func() {
		Convey("chat vendors do not draw", func() {
			_, err := NewImageAdaptor("GEMINI", "gemini-1.5-pro")
			So(err, ShouldNotBeNil)
			perr, ok := model.AsProviderError(err)
			So(ok, ShouldBeTrue)
			So(perr.Code, ShouldEqual, model.ErrInvalidRequest)
		})

		Convey("stability constructs or reports missing credentials", func() {
			a, err := NewImageAdaptor("STABILITY", "stability.stable-diffusion-xl-v1")
			if err != nil {
				perr, ok := model.AsProviderError(err)
				So(ok, ShouldBeTrue)
				So(perr.Code, ShouldEqual, model.ErrAuthFailed)
				return
			}
			So(a, ShouldNotBeNil)
		})
	})
}
