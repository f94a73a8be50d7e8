// Package watcher turns file system changes under a library into per-topic
// change notifications.
//
// fsnotify watches every folder of the library, including folders created
// after Start. Events outside book formats, inside hidden folders or the data
// directory are dropped. Each remaining event is mapped to the topic id of its
// folder and debounced per topic: a topic is reported once it has been quiet
// for the debounce window.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "/path/to/library") }()
//
//	for change := range w.Changes() {
//	    // reindex change.Topic
//	}
package watcher
