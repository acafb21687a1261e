// Package gstreamer builds camera capture pipelines and, when compiled with
// the gstreamer build tag, pulls encoded H.264 access units from an appsink.
//
// BuildPipeline is pure and always available so the pipeline description can
// be printed and tested on machines without GStreamer installed.
package gstreamer
