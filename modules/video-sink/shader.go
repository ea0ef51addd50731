package videosink

// VertexShader draws a full-screen quad and passes texture coordinates through.
const VertexShader = `#version 100
attribute vec2 a_position;
attribute vec2 a_texcoord;
varying vec2 v_texcoord;
void main() {
    gl_Position = vec4(a_position, 0.0, 1.0);
    v_texcoord = a_texcoord;
}
`

// FragmentShaderBT601 samples the three I420 planes uploaded as single-channel textures
// and converts to RGB with BT.601 coefficients (full swing, chroma biased by 0.5).
//
// The GPU path of SinkAdapter hands out frames whose planes map one-to-one onto
// tex_y, tex_u and tex_v.
const FragmentShaderBT601 = `#version 100
precision mediump float;
varying vec2 v_texcoord;
uniform sampler2D tex_y;
uniform sampler2D tex_u;
uniform sampler2D tex_v;
void main() {
    float y = texture2D(tex_y, v_texcoord).r;
    float u = texture2D(tex_u, v_texcoord).r - 0.5;
    float v = texture2D(tex_v, v_texcoord).r - 0.5;
    float r = y + 1.402 * v;
    float g = y - 0.344 * u - 0.714 * v;
    float b = y + 1.772 * u;
    gl_FragColor = vec4(clamp(vec3(r, g, b), 0.0, 1.0), 1.0);
}
`
