// Package jmod reads module containers: versioned archives that group a
// program module's compiled artifacts into fixed sections.
//
// A container starts with a four byte header, the magic "JM" followed by a
// major and minor version, and continues with a zip archive whose entries
// are stored as "<section dir>/<name>":
//
//	native/   NativeLibs   native libraries
//	bin/      NativeCmds   native executables
//	classes/  Classes      platform-independent classes
//	conf/     Config       configuration files
//	include/  HeaderFiles  header files
//	man/      ManPages     man pages
//
// # Reading
//
//	f, err := jmod.Open("java.base.jmod")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	for e, err := range f.Entries() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(e.Section, e.Name, e.Size)
//	}
//
//	rc, err := f.Open(jmod.Config, "security/java.security")
//
// Readers accept containers written with the same major version and an
// equal or older minor version, or any older major version.
package jmod
